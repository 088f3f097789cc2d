package receiptformat

import (
	"fmt"
	"math"
)

// Validate validates an order description
func Validate(in *BuildInput) error {
	if in == nil {
		return fmt.Errorf("order is required")
	}
	if in.OrderNumber == "" {
		return fmt.Errorf("orderNumber is required")
	}

	switch in.OrderType {
	case DineIn, Takeaway:
	case "":
		return fmt.Errorf("orderType is required")
	default:
		return fmt.Errorf("invalid orderType: %s (must be dine-in or takeaway)", in.OrderType)
	}

	for i, item := range in.Items {
		if item.Name == "" {
			return fmt.Errorf("item[%d]: 'name' is required", i)
		}
		if item.Quantity < 1 {
			return fmt.Errorf("item[%d] '%s': quantity must be at least 1", i, item.Name)
		}
		if item.Price < 0 || math.IsNaN(item.Price) || math.IsInf(item.Price, 0) {
			return fmt.Errorf("item[%d] '%s': invalid price %v", i, item.Name, item.Price)
		}
		switch item.Kind {
		case "", KindFood, KindDrink:
		default:
			return fmt.Errorf("item[%d] '%s': invalid kind '%s' (must be food or drink)", i, item.Name, item.Kind)
		}
	}

	switch in.Payment.Method {
	case "", PaymentCash, PaymentGCash, PaymentCard, PaymentSplit:
	default:
		return fmt.Errorf("invalid payment method: %s", in.Payment.Method)
	}

	for name, v := range map[string]float64{
		"subtotal":      in.Subtotal,
		"discountTotal": in.DiscountTotal,
		"total":         in.Total,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%s is not a finite number", name)
		}
	}

	return nil
}
