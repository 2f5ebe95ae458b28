package fileops

import (
	"encoding/base64"
	"fmt"

	"github.com/ehrlich-b/gangway/internal/protocol"
)

func encodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// decodeContent turns wire content back into file bytes. Anything not
// tagged base64 is written as UTF-8 text exactly as received.
func decodeContent(content, encoding string) ([]byte, error) {
	if encoding == protocol.EncodingBase64 {
		data, err := base64.StdEncoding.DecodeString(content)
		if err != nil {
			return nil, fmt.Errorf("decode base64 content: %w", err)
		}
		return data, nil
	}
	return []byte(content), nil
}
