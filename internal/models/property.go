package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	PropertyStatusAvailable = "available"
	PropertyStatusRented    = "rented"
	PropertyStatusInactive  = "inactive"
)

type Property struct {
	ID         uuid.UUID  `json:"id"`
	LandlordID uuid.UUID  `json:"landlord_id"`
	AgentID    *uuid.UUID `json:"agent_id,omitempty"`
	Title      string     `json:"title"`
	City       string     `json:"city"`
	AnnualRent int64      `json:"annual_rent"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
}
