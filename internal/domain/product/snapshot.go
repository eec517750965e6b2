package product

import (
	"bytes"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// Field names of the stored product record.
const (
	fieldName        = "name"
	fieldDescription = "description"
	fieldPrice       = "price"
	fieldImageURL    = "imageURL"
	fieldUserID      = "userId"
	fieldTimestamp   = "timestamp"
)

// Normalize converts a keyed catalog snapshot into products in document
// order, taking each product's ID from its key. Absent data (empty input,
// null or {}) yields an empty, non-nil slice. Null entries are skipped.
func Normalize(raw []byte) ([]Product, error) {
	products := []Product{}
	if len(bytes.TrimSpace(raw)) == 0 {
		return products, nil
	}

	d := jx.DecodeBytes(raw)
	switch tt := d.Next(); tt {
	case jx.Null:
		return products, nil
	case jx.Object:
	default:
		return nil, errors.Errorf("snapshot is %s, want object", tt)
	}

	if err := d.Obj(func(d *jx.Decoder, key string) error {
		if d.Next() == jx.Null {
			return d.Null()
		}
		p, err := decodeRecord(d)
		if err != nil {
			return errors.Wrapf(err, "product %q", key)
		}
		p.ID = key
		products = append(products, p)
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "decode snapshot")
	}
	return products, nil
}

// Decode parses a single stored product record.
func Decode(raw []byte) (Product, error) {
	return decodeRecord(jx.DecodeBytes(raw))
}

func decodeRecord(d *jx.Decoder) (Product, error) {
	var p Product
	if tt := d.Next(); tt != jx.Object {
		return p, errors.Errorf("record is %s, want object", tt)
	}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case fieldName:
			p.Name, err = optString(d)
		case fieldDescription:
			p.Description, err = optString(d)
		case fieldPrice:
			p.Price, err = optDecimal(d)
		case fieldImageURL:
			p.ImageURL, err = optString(d)
		case fieldUserID:
			p.UserID, err = optString(d)
		case fieldTimestamp:
			p.Timestamp, err = optString(d)
		default:
			err = d.Skip()
		}
		return errors.Wrap(err, key)
	})
	return p, err
}

func optString(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

func optDecimal(d *jx.Decoder) (*decimal.Decimal, error) {
	var s string
	switch tt := d.Next(); tt {
	case jx.Null:
		return nil, d.Null()
	case jx.String:
		v, err := d.Str()
		if err != nil {
			return nil, err
		}
		if v == "" {
			return nil, nil
		}
		s = v
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return nil, err
		}
		s = n.String()
	default:
		return nil, errors.Errorf("unexpected %s", tt)
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// Encode returns the stored JSON form of p. The ID is not part of the
// record; it is the key the record is stored under.
func Encode(p Product) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart(fieldName)
	e.Str(p.Name)
	e.FieldStart(fieldDescription)
	e.Str(p.Description)
	e.FieldStart(fieldPrice)
	if p.Price != nil {
		e.Raw([]byte(p.Price.String()))
	} else {
		e.Null()
	}
	e.FieldStart(fieldImageURL)
	e.Str(p.ImageURL)
	e.FieldStart(fieldUserID)
	e.Str(p.UserID)
	e.FieldStart(fieldTimestamp)
	e.Str(p.Timestamp)
	e.ObjEnd()
	return e.Bytes()
}
