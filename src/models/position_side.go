package models

type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
	PositionSideFlat  PositionSide = "flat"
)

func PositionSideFromQuantity(quantity float64) PositionSide {
	if quantity > 0 {
		return PositionSideLong
	} else if quantity < 0 {
		return PositionSideShort
	}

	return PositionSideFlat
}
