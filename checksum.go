package oasis

import (
	"bytes"
	"crypto/md5"
	"crypto/sha256"
	"crypto/sha512"
	"database/sql/driver"
	"encoding/hex"
	"fmt"
)

// Checksum is a content checksum in "algorithm:hex" form, as supplied by
// publishers at artifact confirmation.
type Checksum struct {
	algo string
	sum  []byte
}

// Accepted algorithms, mapped to their digest sizes.
var checksumSize = map[string]int{
	"md5":    md5.Size,
	"sha256": sha256.Size,
	"sha512": sha512.Size,
}

func (c Checksum) Sum() []byte { return c.sum }

func (c Checksum) Algorithm() string { return c.algo }

func (c Checksum) String() string {
	b, _ := c.MarshalText()
	return string(b)
}

// MarshalText implements encoding.TextMarshaler.
func (c Checksum) MarshalText() ([]byte, error) {
	el := hex.EncodedLen(len(c.sum))
	hl := len(c.algo) + 1
	b := make([]byte, hl+el)
	copy(b, c.algo)
	b[len(c.algo)] = ':'
	hex.Encode(b[hl:], c.sum)
	return b, nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Checksum) UnmarshalText(t []byte) error {
	i := bytes.IndexByte(t, ':')
	if i == -1 {
		return fmt.Errorf("invalid checksum format")
	}
	algo := string(bytes.ToLower(t[:i]))
	want, ok := checksumSize[algo]
	if !ok {
		return fmt.Errorf("unknown checksum algorithm %q", algo)
	}
	t = t[i+1:]
	if hex.DecodedLen(len(t)) != want {
		return fmt.Errorf("bad checksum length for %q: %d", algo, len(t))
	}
	sum := make([]byte, want)
	if _, err := hex.Decode(sum, t); err != nil {
		return fmt.Errorf("invalid checksum format: %w", err)
	}
	c.algo = algo
	c.sum = sum
	return nil
}

// Scan implements sql.Scanner.
func (c *Checksum) Scan(i interface{}) error {
	switch v := i.(type) {
	case nil:
		return nil
	case string:
		return c.UnmarshalText([]byte(v))
	default:
		return fmt.Errorf("invalid checksum type %T", i)
	}
}

// Value implements driver.Valuer.
func (c Checksum) Value() (driver.Value, error) {
	b, err := c.MarshalText()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func NewChecksum(algo string, sum []byte) (Checksum, error) {
	want, ok := checksumSize[algo]
	if !ok {
		return Checksum{}, fmt.Errorf("unknown checksum algorithm %q", algo)
	}
	if len(sum) != want {
		return Checksum{}, fmt.Errorf("bad checksum length for %q: %d", algo, len(sum))
	}
	return Checksum{
		algo: algo,
		sum:  sum,
	}, nil
}

func ParseChecksum(checksum string) (Checksum, error) {
	c := Checksum{}
	return c, c.UnmarshalText([]byte(checksum))
}
