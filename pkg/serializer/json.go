package serializer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
)

const JSONName = "json"

// JSON encodes values with encoding/json. Numbers decode as json.Number
// when the target is an interface.
type JSON struct{}

func NewJSON() *JSON { return &JSON{} }

func (*JSON) Name() string        { return JSONName }
func (*JSON) ContentType() string { return "application/json" }

func (*JSON) Encode(ctx context.Context, w io.Writer, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		return fmt.Errorf("%s - json encode: %w", logPrefix, err)
	}
	return nil
}

func (*JSON) Decode(ctx context.Context, r io.Reader, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		if err == io.EOF {
			return err
		}
		return fmt.Errorf("%s - json decode: %w", logPrefix, err)
	}
	return nil
}
