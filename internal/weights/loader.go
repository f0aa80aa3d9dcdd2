// Package weights stores and restores network parameters as CBOR files.
package weights

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/fxamacker/cbor/v2"

	"github.com/23skdu/longbow-kernels/internal/nn"
	"github.com/23skdu/longbow-kernels/internal/shape"
	"github.com/23skdu/longbow-kernels/internal/tensor"
)

// FormatVersion is written into every file and checked on load.
const FormatVersion = 1

// ErrMissingParam reports a model parameter absent from the file.
var ErrMissingParam = errors.New("missing parameter")

// Record is one serialized tensor.
type Record struct {
	Shape []int     `cbor:"shape"`
	Data  []float64 `cbor:"data"`
}

// File is the on-disk layout.
type File struct {
	Version int               `cbor:"version"`
	Params  map[string]Record `cbor:"params"`
}

var encMode = func() cbor.EncMode {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// decMode lifts fxamacker's default limit of 131072 elements per array, which
// a single fc layer of a larger model would exceed.
var decMode = func() cbor.DecMode {
	dm, err := cbor.DecOptions{MaxArrayElements: math.MaxInt32}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}()

// Loader moves parameters between a model and a file.
type Loader struct {
	Model nn.Parameterized
}

// NewLoader creates a new weight loader for the given model.
func NewLoader(m nn.Parameterized) *Loader {
	return &Loader{Model: m}
}

// Save writes every model parameter to path.
func (l *Loader) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := l.Write(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Write encodes every model parameter to w.
func (l *Loader) Write(w io.Writer) error {
	file := File{Version: FormatVersion, Params: make(map[string]Record)}
	for _, p := range l.Model.Parameters() {
		file.Params[p.Name] = Record{Shape: p.Tensor.Shape(), Data: p.Tensor.Data()}
	}
	if err := encMode.NewEncoder(w).Encode(file); err != nil {
		return fmt.Errorf("failed to encode weights: %w", err)
	}
	return nil
}

// Load reads path and copies each stored tensor into the model parameter of
// the same name.
func (l *Loader) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return l.Read(f)
}

// Read decodes a weights file from r into the model.
func (l *Loader) Read(r io.Reader) error {
	var file File
	if err := decMode.NewDecoder(r).Decode(&file); err != nil {
		return fmt.Errorf("failed to decode weights: %w", err)
	}
	if file.Version != FormatVersion {
		return fmt.Errorf("unsupported weights version %d, want %d", file.Version, FormatVersion)
	}

	// Validate everything before touching the model so a bad file leaves it
	// unchanged.
	params := l.Model.Parameters()
	staged := make([]*tensor.Tensor, len(params))
	for i, p := range params {
		rec, ok := file.Params[p.Name]
		if !ok {
			return fmt.Errorf("%s: %w", p.Name, ErrMissingParam)
		}
		t, err := tensor.FromFlat(rec.Data, rec.Shape...)
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", p.Name, err)
		}
		if !t.Shape().Equal(p.Tensor.Shape()) {
			return fmt.Errorf("failed to load %s: stored shape %v, model wants %v: %w",
				p.Name, t.Shape(), p.Tensor.Shape(), shape.ErrShapeMismatch)
		}
		staged[i] = t
	}

	for i, p := range params {
		copy(p.Tensor.Data(), staged[i].Data())
	}
	return nil
}
