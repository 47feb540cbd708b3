package models

// BlockSize is the size of one MIFARE Classic data block
const BlockSize = 16

// Block is the raw content of a single data block
type Block [BlockSize]byte

// On-card layout. Both blocks are authenticated with the default key.
const (
	BlockCardNumber = 8
	BlockSecret     = 9
)

// DefaultBlockKey is the factory MIFARE key A
var DefaultBlockKey = [6]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// CardRecord is the decoded content of the two payment blocks
type CardRecord struct {
	CardNumber string `json:"card_number"`
	Secret     string `json:"secret"`
}

// IssuedCard describes a card that went through the write flow
type IssuedCard struct {
	UID        string `json:"uid"`
	CardNumber string `json:"card_number"`
	Secret     string `json:"secret"`
	Confirmed  bool   `json:"confirmed"`
}

// Direction is the balance mutation flag understood by the server
type Direction int

const (
	DirectionDecrease Direction = 1
	DirectionIncrease Direction = 2
)

func (d Direction) String() string {
	switch d {
	case DirectionDecrease:
		return "decrease"
	case DirectionIncrease:
		return "increase"
	}
	return "unknown"
}
