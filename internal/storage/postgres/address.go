package postgres

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/heating-shop/internal/domain/order"
)

// addressFields maps the JSONB keys of an address snapshot to its fields.
func addressFields(a *order.Address) []struct {
	key string
	val *string
} {
	return []struct {
		key string
		val *string
	}{
		{"full_name", &a.FullName},
		{"company", &a.Company},
		{"tax_id", &a.TaxID},
		{"line1", &a.Line1},
		{"line2", &a.Line2},
		{"city", &a.City},
		{"postal_code", &a.PostalCode},
		{"province", &a.Province},
		{"country", &a.Country},
		{"phone", &a.Phone},
	}
}

func encodeAddress(a order.Address) []byte {
	e := &jx.Encoder{}
	e.ObjStart()
	for _, f := range addressFields(&a) {
		if *f.val == "" {
			continue
		}
		e.FieldStart(f.key)
		e.Str(*f.val)
	}
	e.ObjEnd()
	return e.Bytes()
}

func decodeAddress(raw []byte) (order.Address, error) {
	var a order.Address
	fields := addressFields(&a)
	err := jx.DecodeBytes(raw).ObjBytes(func(d *jx.Decoder, key []byte) error {
		for _, f := range fields {
			if f.key == string(key) {
				v, err := d.Str()
				*f.val = v
				return err
			}
		}
		return d.Skip()
	})
	if err != nil {
		return order.Address{}, errors.Wrap(err, "decode address")
	}
	return a, nil
}

// encodeParams writes a flat string map as a JSON object.
func encodeParams(params map[string]string) []byte {
	e := &jx.Encoder{}
	e.ObjStart()
	for k, v := range params {
		e.FieldStart(k)
		e.Str(v)
	}
	e.ObjEnd()
	return e.Bytes()
}
