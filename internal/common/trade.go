package common

import "fmt"

// Trade accounts for one match between a resting maker and an incoming taker.
// Price is always the maker's price.
type Trade struct {
	Price    uint64
	Quantity uint64
	MakerID  uint64
	TakerID  uint64
}

func (t Trade) String() string {
	return fmt.Sprintf(
		`Price:    %d
Quantity: %d
Maker:    %d
Taker:    %d`,
		t.Price,
		t.Quantity,
		t.MakerID,
		t.TakerID,
	)
}
