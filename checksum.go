package tileoverlay

import (
	"fmt"
	"hash/crc32"
)

func checksum(b []byte) string {
	return fmt.Sprintf("%.*X", crc32.Size<<1, crc32.ChecksumIEEE(b))
}
