package local

import (
	"context"

	qerrors "github.com/systmms/quickmanage/internal/errors"
	"github.com/systmms/quickmanage/pkg/secretstore"
)

func keyGetter(values map[string]string) secretstore.KeyGetter {
	return secretstore.KeyGetterFunc(func(ctx context.Context, address string) ([]byte, error) {
		value, ok := values[address]
		if !ok {
			return nil, qerrors.NotFound("key", address, "test values")
		}
		return []byte(value), nil
	})
}
