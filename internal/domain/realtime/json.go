package realtime

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"
)

// Entry is a child of a collection.
type Entry struct {
	Key   string
	Value []byte
}

// EncodeCollection returns the snapshot value of entries, in order. It
// returns nil for an empty collection, which subscribers observe as absent
// data.
func EncodeCollection(entries []Entry) []byte {
	if len(entries) == 0 {
		return nil
	}
	var e jx.Encoder
	e.ObjStart()
	for _, ent := range entries {
		e.FieldStart(ent.Key)
		e.Raw(ent.Value)
	}
	e.ObjEnd()
	return e.Bytes()
}

// MergeObject shallow-merges the fields of partial into base. Fields of
// partial replace fields of base with the same name; the order of base
// fields is kept and new fields are appended. A nil or null base is treated
// as an empty object.
func MergeObject(base, partial []byte) ([]byte, error) {
	var (
		keys   []string
		fields = map[string][]byte{}
	)
	collect := func(raw []byte) error {
		d := jx.DecodeBytes(raw)
		if d.Next() == jx.Null {
			return nil
		}
		return d.Obj(func(d *jx.Decoder, key string) error {
			v, err := d.Raw()
			if err != nil {
				return err
			}
			if _, ok := fields[key]; !ok {
				keys = append(keys, key)
			}
			fields[key] = append([]byte(nil), v...)
			return nil
		})
	}
	if len(base) > 0 {
		if err := collect(base); err != nil {
			return nil, errors.Wrap(err, "decode base")
		}
	}
	if err := collect(partial); err != nil {
		return nil, errors.Wrap(err, "decode partial")
	}

	var e jx.Encoder
	e.ObjStart()
	for _, k := range keys {
		e.FieldStart(k)
		e.Raw(fields[k])
	}
	e.ObjEnd()
	return e.Bytes(), nil
}

// Validate reports whether value is a single well-formed JSON value.
func Validate(value []byte) error {
	d := jx.DecodeBytes(value)
	if err := d.Skip(); err != nil {
		return errors.Wrap(err, "invalid json")
	}
	if d.Next() != jx.Invalid {
		return errors.New("invalid json: trailing data")
	}
	return nil
}

// NewKey returns a time-ordered unique key. Keys generated later sort after
// keys generated earlier.
func NewKey() string {
	return uuid.Must(uuid.NewV7()).String()
}
