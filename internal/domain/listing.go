package domain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// TokenDecimals is the number of decimals of the payment token (cUSD).
const TokenDecimals = 18

// zeroAddress is what the contract returns as owner for an unknown product.
const zeroAddress = "0x0000000000000000000000000000000000000000"

// Listing is a marketplace product as stored on the ledger. Price is in the
// token's smallest denomination.
type Listing struct {
	ID          uint64   `json:"id"`
	Owner       string   `json:"owner"`
	Name        string   `json:"name"`
	Image       string   `json:"image"`
	Description string   `json:"description"`
	Location    string   `json:"location"`
	Price       *big.Int `json:"price"`
	Sold        uint64   `json:"sold"`
	Likes       uint64   `json:"likes"`
}

// DisplayPrice returns the price formatted in whole tokens, e.g. "1.5".
func (l Listing) DisplayPrice() string {
	if l.Price == nil {
		return "0"
	}
	return decimal.NewFromBigInt(l.Price, -TokenDecimals).String()
}

// Comment is one entry of a listing's comment sequence. Timestamp is in
// seconds since the epoch, as assigned by the ledger.
type Comment struct {
	Author    string `json:"author"`
	Timestamp int64  `json:"timestamp"`
	Body      string `json:"body"`
}

// EntityKind selects which remote value ReadEntity fetches.
type EntityKind string

const (
	EntityListing      EntityKind = "listing"
	EntityLikeStatus   EntityKind = "like_status"
	EntityComments     EntityKind = "comments"
	EntityAllowance    EntityKind = "allowance"
	EntityListingCount EntityKind = "listing_count"
)

// ViewStatus tells the presentation layer whether a value can be shown.
type ViewStatus string

const (
	ViewLoading  ViewStatus = "loading"
	ViewNotFound ViewStatus = "not_found"
	ViewReady    ViewStatus = "ready"
)

// EntityView wraps a remote value with its availability. Loading and
// NotFound views are not errors; they gate the actions that depend on them.
type EntityView[T any] struct {
	Status ViewStatus `json:"status"`
	Value  T          `json:"value"`
}

// Ready reports whether the view carries a usable value.
func (v EntityView[T]) Ready() bool {
	return v.Status == ViewReady
}

// LoadingView returns a view for a value that is not yet available.
func LoadingView[T any]() EntityView[T] {
	return EntityView[T]{Status: ViewLoading}
}

// NotFoundView returns a view for a value that does not exist remotely.
func NotFoundView[T any]() EntityView[T] {
	return EntityView[T]{Status: ViewNotFound}
}

// ReadyView wraps v as an available value.
func ReadyView[T any](v T) EntityView[T] {
	return EntityView[T]{Status: ViewReady, Value: v}
}

// hexer is satisfied by go-ethereum's common.Address.
type hexer interface {
	Hex() string
}

// DecodeListing decodes the positional tuple returned by readProduct:
// [owner, name, image, description, location, price, soldCount, likeCount].
func DecodeListing(id uint64, raw []any) (Listing, error) {
	if len(raw) != 8 {
		return Listing{}, fmt.Errorf("domain: listing tuple has %d fields, want 8", len(raw))
	}
	var (
		l   = Listing{ID: id}
		err error
	)
	if l.Owner, err = asAddress(raw[0]); err != nil {
		return Listing{}, fmt.Errorf("domain: listing owner: %w", err)
	}
	strs := []*string{&l.Name, &l.Image, &l.Description, &l.Location}
	for i, dst := range strs {
		s, ok := raw[i+1].(string)
		if !ok {
			return Listing{}, fmt.Errorf("domain: listing field %d: want string, got %T", i+1, raw[i+1])
		}
		*dst = s
	}
	if l.Price, err = asBigInt(raw[5]); err != nil {
		return Listing{}, fmt.Errorf("domain: listing price: %w", err)
	}
	if l.Sold, err = asUint64(raw[6]); err != nil {
		return Listing{}, fmt.Errorf("domain: listing sold count: %w", err)
	}
	if l.Likes, err = asUint64(raw[7]); err != nil {
		return Listing{}, fmt.Errorf("domain: listing like count: %w", err)
	}
	return l, nil
}

// IsZeroOwner reports whether owner is the zero address, which the contract
// returns for listings that were never created.
func IsZeroOwner(owner string) bool {
	return owner == "" || strings.EqualFold(owner, zeroAddress)
}

// DecodeUint decodes a single unsigned integer value (counts, allowances).
func DecodeUint(raw []any) (*big.Int, error) {
	if len(raw) != 1 {
		return nil, fmt.Errorf("domain: want 1 value, got %d", len(raw))
	}
	return asBigInt(raw[0])
}

// DecodeBool decodes a single boolean value (like status).
func DecodeBool(raw []any) (bool, error) {
	if len(raw) != 1 {
		return false, fmt.Errorf("domain: want 1 value, got %d", len(raw))
	}
	b, ok := raw[0].(bool)
	if !ok {
		return false, fmt.Errorf("domain: want bool, got %T", raw[0])
	}
	return b, nil
}

func asAddress(v any) (string, error) {
	switch a := v.(type) {
	case string:
		return a, nil
	case hexer:
		return a.Hex(), nil
	default:
		return "", fmt.Errorf("want address, got %T", v)
	}
}

func asBigInt(v any) (*big.Int, error) {
	switch n := v.(type) {
	case *big.Int:
		if n == nil {
			return nil, fmt.Errorf("nil integer")
		}
		return new(big.Int).Set(n), nil
	case uint64:
		return new(big.Int).SetUint64(n), nil
	case int64:
		return big.NewInt(n), nil
	case int:
		return big.NewInt(int64(n)), nil
	default:
		return nil, fmt.Errorf("want integer, got %T", v)
	}
}

func asUint64(v any) (uint64, error) {
	n, err := asBigInt(v)
	if err != nil {
		return 0, err
	}
	if n.Sign() < 0 || !n.IsUint64() {
		return 0, fmt.Errorf("integer %s out of range", n)
	}
	return n.Uint64(), nil
}
