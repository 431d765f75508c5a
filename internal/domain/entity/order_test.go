package entity

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func TestHalfDebt(t *testing.T) {
	tests := []struct {
		debt int64
		want int64
	}{
		{debt: 1000, want: 500},
		{debt: 1001, want: 500},
		{debt: 1, want: 0},
		{debt: 0, want: 0},
	}
	for _, tt := range tests {
		debt := big.NewInt(tt.debt)
		got := HalfDebt(debt)
		if got.Cmp(big.NewInt(tt.want)) != 0 {
			t.Errorf("HalfDebt(%d) = %s, want %d", tt.debt, got, tt.want)
		}
		doubled := new(big.Int).Lsh(got, 1)
		if doubled.Cmp(debt) > 0 {
			t.Errorf("2*HalfDebt(%d) = %s exceeds debt", tt.debt, doubled)
		}
		if debt.Int64() != tt.debt {
			t.Error("HalfDebt mutated its input")
		}
	}
	if HalfDebt(nil).Sign() != 0 {
		t.Error("HalfDebt(nil) should be zero")
	}
}

func validOrder() *Order {
	return &Order{
		DebtAsset:       common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F"),
		CollateralAsset: common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"),
		User:            common.HexToAddress("0x1111111111111111111111111111111111111111"),
		DebtToCover:     big.NewInt(500),
		SwapPath:        []byte{1, 2, 3},
		MinAmountOut:    big.NewInt(500),
		MinProfit:       big.NewInt(0),
		Deadline:        big.NewInt(1),
		MaxGasPrice:     big.NewInt(100),
		Nonce:           big.NewInt(1),
	}
}

func TestOrder_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(o *Order)
		wantErr bool
	}{
		{name: "valid", mutate: func(o *Order) {}},
		{name: "zero debt asset", mutate: func(o *Order) { o.DebtAsset = common.Address{} }, wantErr: true},
		{name: "zero collateral asset", mutate: func(o *Order) { o.CollateralAsset = common.Address{} }, wantErr: true},
		{name: "zero user", mutate: func(o *Order) { o.User = common.Address{} }, wantErr: true},
		{name: "zero repay", mutate: func(o *Order) { o.DebtToCover = big.NewInt(0) }, wantErr: true},
		{name: "empty path", mutate: func(o *Order) { o.SwapPath = nil }, wantErr: true},
		{name: "missing nonce", mutate: func(o *Order) { o.Nonce = nil }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := validOrder()
			tt.mutate(o)
			err := o.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestOrder_Refresh(t *testing.T) {
	o := validOrder()
	deadline := time.Unix(1700000300, 0)
	nonce := big.NewInt(42)

	o.Refresh(deadline, nonce)
	nonce.SetInt64(7)

	if o.Deadline.Int64() != 1700000300 {
		t.Errorf("Deadline = %s, want 1700000300", o.Deadline)
	}
	if o.Nonce.Int64() != 42 {
		t.Errorf("Nonce = %s, want 42 (must not alias caller's value)", o.Nonce)
	}
}

func TestOrderPlan_ActionableAndAge(t *testing.T) {
	generated := time.Unix(1700000000, 0)
	plan := OrderPlan{
		GeneratedAt: generated,
		Items: []PlanItem{
			{Action: ActionWatch},
			{Action: ActionExec, Order: validOrder()},
			{Action: ActionExec},
		},
	}

	if got := len(plan.Actionable()); got != 1 {
		t.Errorf("Actionable() len = %d, want 1", got)
	}
	if got := plan.Age(generated.Add(120 * time.Second)); got != 120*time.Second {
		t.Errorf("Age = %v, want 2m", got)
	}
}

func TestNonceClock(t *testing.T) {
	var c NonceClock
	at := time.UnixMilli(1_700_000_000_000)

	first := c.Next(at)
	if first.Int64() != at.UnixMilli() {
		t.Errorf("first = %s, want %d", first, at.UnixMilli())
	}
	if second := c.Next(at); second.Int64() != first.Int64()+1 {
		t.Errorf("same-millisecond nonce = %s, want %d", second, first.Int64()+1)
	}
	if earlier := c.Next(at.Add(-time.Second)); earlier.Int64() != first.Int64()+2 {
		t.Errorf("clock going back gave %s", earlier)
	}
}
