package registry

import (
	"crypto/rand"
	"math/big"
)

// Room IDs are short, human-relayable codes. The alphabet omits characters
// that are easy to misread over voice or chat (0/O, 1/I/L).
const (
	roomIDAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"
	roomIDLength   = 6
)

func generateRoomID() string {
	max := big.NewInt(int64(len(roomIDAlphabet)))
	buf := make([]byte, roomIDLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand failing means the process is in a state where
			// nothing else will work either.
			panic(err)
		}
		buf[i] = roomIDAlphabet[n.Int64()]
	}
	return string(buf)
}
