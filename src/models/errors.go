package models

import "fmt"

var (
	ErrQuantityInvariant   = fmt.Errorf("order quantity is less than filled + cancelled + open quantity")
	ErrInvalidFillQuantity = fmt.Errorf("fill quantity must be greater than 0")
	ErrInvalidFillPrice    = fmt.Errorf("fill price must be greater than 0")
	ErrOrderNotActive      = fmt.Errorf("order is not open or partially filled")
)
