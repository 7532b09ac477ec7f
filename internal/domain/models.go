package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"salesdesk/backend/internal/money"
)

const (
	RoleSuper = "super"
	RoleAdmin = "admin"
	RoleUser  = "user"
)

const SaleCodeSequence = "saleCode"

const (
	SaleStatusActive   = "active"
	SaleStatusCanceled = "canceled"
)

type Actor struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

func (a Actor) IsAdmin() bool {
	return IsAdminRole(a.Role)
}

func IsAdminRole(role string) bool {
	return role == RoleAdmin || role == RoleSuper
}

func IsKnownRole(role string) bool {
	return role == RoleSuper || role == RoleAdmin || role == RoleUser
}

type User struct {
	ID           string          `json:"id"`
	Email        string          `json:"email"`
	PasswordHash string          `json:"-"`
	Name         string          `json:"name"`
	Active       bool            `json:"active"`
	Role         string          `json:"role"`
	ImageURL     string          `json:"imageUrl,omitempty"`
	Commission   decimal.Decimal `json:"commission"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

type Customer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Address   string    `json:"address,omitempty"`
	Code      string    `json:"code,omitempty"`
	Comment   string    `json:"comment,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Product struct {
	ID          string      `json:"id"`
	Reference   string      `json:"reference,omitempty"`
	Name        string      `json:"name"`
	Price       money.Cents `json:"price"`
	Cost        money.Cents `json:"cost"`
	Description string      `json:"description,omitempty"`
	Active      bool        `json:"active"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// Sale is the aggregate root of a recorded transaction. Items keep the order
// they were submitted in; proration depends on it.
type Sale struct {
	ID         string      `json:"id"`
	Code       int64       `json:"code"`
	Date       time.Time   `json:"date"`
	CustomerID string      `json:"customer"`
	UserID     string      `json:"user"`
	Subtotal   money.Cents `json:"subtotal"`
	Discount   money.Cents `json:"discount"`
	Addition   money.Cents `json:"addition"`
	Total      money.Cents `json:"total"`
	Items      []SaleItem  `json:"items"`
	Comments   string      `json:"comments,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
	CanceledAt *time.Time  `json:"canceledAt"`
	CanceledBy string      `json:"canceledBy,omitempty"`
}

func (s Sale) IsCanceled() bool {
	return s.CanceledAt != nil
}

func (s Sale) Status() string {
	if s.IsCanceled() {
		return SaleStatusCanceled
	}
	return SaleStatusActive
}

type SaleItem struct {
	ProductID  string          `json:"product"`
	Quantity   decimal.Decimal `json:"quantity"`
	UnitPrice  money.Cents     `json:"unitPrice"`
	Discount   money.Cents     `json:"discount"`
	Addition   money.Cents     `json:"addition"`
	TotalPrice money.Cents     `json:"totalPrice"`
}

// BaseAmount is the line value before any header adjustment.
func (i SaleItem) BaseAmount() money.Cents {
	return money.LineAmount(i.Quantity, i.UnitPrice)
}

type SaleItemRequest struct {
	ProductID string          `json:"product"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice money.Cents     `json:"unitPrice"`
}

// SaleRequest is the payload for both creation and update. Subtotal and Total
// are optional cross-checks against the computed values.
type SaleRequest struct {
	CustomerID string            `json:"customer"`
	Date       *time.Time        `json:"date"`
	Subtotal   *money.Cents      `json:"subtotal"`
	Discount   money.Cents       `json:"discount"`
	Addition   money.Cents       `json:"addition"`
	Total      *money.Cents      `json:"total"`
	Comments   string            `json:"comments"`
	Items      []SaleItemRequest `json:"items"`
}

type SaleQuery struct {
	From       *time.Time
	To         *time.Time
	UserID     string
	CustomerID string
	Status     string
	Limit      int
}

type CancelSaleResponse struct {
	Message    string    `json:"message"`
	SaleID     string    `json:"saleId"`
	Code       int64     `json:"code"`
	CanceledAt time.Time `json:"canceledAt"`
	CanceledBy string    `json:"canceledBy"`
}

type CustomerRequest struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	Code    string `json:"code"`
	Comment string `json:"comment"`
	Active  *bool  `json:"active"`
}

type ProductRequest struct {
	Reference   string      `json:"reference"`
	Name        string      `json:"name"`
	Price       money.Cents `json:"price"`
	Cost        money.Cents `json:"cost"`
	Description string      `json:"description"`
	Active      *bool       `json:"active"`
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expiresAt"`
	User      User   `json:"user"`
}

type UserCreateRequest struct {
	Email      string           `json:"email"`
	Password   string           `json:"password"`
	Name       string           `json:"name"`
	Role       string           `json:"role"`
	ImageURL   string           `json:"imageUrl"`
	Commission *decimal.Decimal `json:"commission"`
}

type UserUpdateRequest struct {
	Email      string           `json:"email"`
	Name       string           `json:"name"`
	Role       string           `json:"role"`
	Active     *bool            `json:"active"`
	ImageURL   *string          `json:"imageUrl"`
	Commission *decimal.Decimal `json:"commission"`
}

type ProfileUpdateRequest struct {
	Name     string  `json:"name"`
	ImageURL *string `json:"imageUrl"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type RecoverPasswordRequest struct {
	Email string `json:"email"`
}
