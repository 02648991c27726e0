// Package gateway signs card payment requests for a Redsys compatible
// virtual POS and verifies its notifications.
package gateway

import (
	"context"
	"crypto/cipher"
	"crypto/des"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"

	"github.com/xenking/heating-shop/internal/domain/payment"
)

// SignatureVersion is the only signature scheme supported.
const SignatureVersion = "HMAC_SHA256_V1"

// transactionAuthorization is the standard card payment transaction type.
const transactionAuthorization = "0"

// Config holds merchant credentials and callback URLs.
type Config struct {
	URL          string
	MerchantCode string
	Terminal     string
	// SecretKey is the base64 merchant key, 24 bytes once decoded.
	SecretKey   string
	Currency    string
	MerchantURL string
	OKURL       string
	KOURL       string
}

var _ payment.Gateway = (*Signer)(nil)

// Signer implements payment.Gateway.
type Signer struct {
	cfg   Config
	block cipher.Block
}

// New validates cfg and prepares the merchant key.
func New(cfg Config) (*Signer, error) {
	key, err := base64.StdEncoding.DecodeString(cfg.SecretKey)
	if err != nil {
		return nil, errors.Wrap(err, "decode secret key")
	}
	block, err := des.NewTripleDESCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "merchant key")
	}
	if cfg.MerchantCode == "" {
		return nil, errors.New("merchant code is required")
	}
	if cfg.Terminal == "" {
		cfg.Terminal = "1"
	}
	if cfg.Currency == "" {
		cfg.Currency = "978"
	}
	return &Signer{cfg: cfg, block: block}, nil
}

func (s *Signer) URL() string { return s.cfg.URL }

// Sign builds and signs the merchant parameters for c.
func (s *Signer) Sign(_ context.Context, c payment.Charge) (*payment.Form, error) {
	ref, err := Reference(c.OrderID)
	if err != nil {
		return nil, err
	}

	e := &jx.Encoder{}
	e.ObjStart()
	for _, f := range []struct{ k, v string }{
		{"DS_MERCHANT_AMOUNT", strconv.FormatInt(c.Amount, 10)},
		{"DS_MERCHANT_ORDER", ref},
		{"DS_MERCHANT_MERCHANTCODE", s.cfg.MerchantCode},
		{"DS_MERCHANT_CURRENCY", s.cfg.Currency},
		{"DS_MERCHANT_TRANSACTIONTYPE", transactionAuthorization},
		{"DS_MERCHANT_TERMINAL", s.cfg.Terminal},
		{"DS_MERCHANT_MERCHANTURL", s.cfg.MerchantURL},
		{"DS_MERCHANT_URLOK", s.cfg.OKURL},
		{"DS_MERCHANT_URLKO", s.cfg.KOURL},
		{"DS_MERCHANT_PRODUCTDESCRIPTION", c.Description},
		{"DS_MERCHANT_MERCHANTDATA", c.OrderID},
	} {
		if f.v == "" {
			continue
		}
		e.FieldStart(f.k)
		e.Str(f.v)
	}
	e.ObjEnd()

	params := base64.StdEncoding.EncodeToString(e.Bytes())
	sig := s.sign(ref, params)
	return &payment.Form{
		SignatureVersion:   SignatureVersion,
		MerchantParameters: params,
		Signature:          base64.StdEncoding.EncodeToString(sig),
	}, nil
}

// Verify checks a notification signature and decodes its parameters.
func (s *Signer) Verify(_ context.Context, f payment.Form) (*payment.Notification, error) {
	if f.SignatureVersion != SignatureVersion {
		return nil, errors.Wrapf(payment.ErrInvalidSignature, "unsupported version %q", f.SignatureVersion)
	}
	raw, err := decodeBase64(f.MerchantParameters)
	if err != nil {
		return nil, errors.Wrap(payment.ErrInvalidSignature, "decode parameters")
	}
	n, err := decodeNotification(raw)
	if err != nil {
		return nil, errors.Wrap(payment.ErrInvalidSignature, err.Error())
	}
	got, err := decodeBase64(f.Signature)
	if err != nil {
		return nil, errors.Wrap(payment.ErrInvalidSignature, "decode signature")
	}
	if !hmac.Equal(got, s.sign(n.Reference, f.MerchantParameters)) {
		return nil, payment.ErrInvalidSignature
	}
	return n, nil
}

// sign computes HMAC-SHA256 over params with the key derived for ref.
func (s *Signer) sign(ref, params string) []byte {
	mac := hmac.New(sha256.New, s.orderKey(ref))
	mac.Write([]byte(params))
	return mac.Sum(nil)
}

// orderKey encrypts the zero padded order reference with the merchant key
// using 3DES-CBC and a zero IV.
func (s *Signer) orderKey(ref string) []byte {
	bs := s.block.BlockSize()
	buf := make([]byte, (len(ref)+bs-1)/bs*bs)
	copy(buf, ref)
	cipher.NewCBCEncrypter(s.block, make([]byte, bs)).CryptBlocks(buf, buf)
	return buf
}

// Reference derives the 12 character gateway order reference for an order
// id: four digits followed by eight upper-case hex characters.
func Reference(orderID string) (string, error) {
	id, err := uuid.Parse(orderID)
	if err != nil {
		return "", errors.Wrap(err, "parse order id")
	}
	digits := binary.BigEndian.Uint32(id[12:16]) % 10000
	return fmt.Sprintf("%04d%s", digits, strings.ToUpper(strings.ReplaceAll(orderID, "-", "")[:8])), nil
}

func decodeBase64(s string) ([]byte, error) {
	if b, err := base64.URLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.StdEncoding.DecodeString(s)
}

func decodeNotification(raw []byte) (*payment.Notification, error) {
	var (
		n        payment.Notification
		response string
		amount   string
	)
	err := jx.DecodeBytes(raw).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch strings.ToLower(string(key)) {
		case "ds_order":
			n.Reference, err = scalar(d)
		case "ds_response":
			response, err = scalar(d)
		case "ds_amount":
			amount, err = scalar(d)
		case "ds_authorisationcode":
			n.AuthCode, err = scalar(d)
		case "ds_merchantdata":
			n.OrderID, err = scalar(d)
		default:
			return d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode parameters")
	}
	if n.Reference == "" {
		return nil, errors.New("missing Ds_Order")
	}
	if n.Response, err = strconv.Atoi(strings.TrimSpace(response)); err != nil {
		return nil, errors.Wrap(err, "parse Ds_Response")
	}
	if n.Amount, err = strconv.ParseInt(strings.TrimSpace(amount), 10, 64); err != nil {
		return nil, errors.Wrap(err, "parse Ds_Amount")
	}
	n.AuthCode = strings.TrimSpace(n.AuthCode)
	return &n, nil
}

// scalar reads a string or number value as text.
func scalar(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.String:
		return d.Str()
	case jx.Number:
		n, err := d.Num()
		return string(n), err
	default:
		return "", d.Skip()
	}
}
