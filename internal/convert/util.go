package convert

import (
	"encoding/base64"
	"fmt"
)

func decodeBase64(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("convert: decode base64 source data: %w", err)
	}
	return b, nil
}
