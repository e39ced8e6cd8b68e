package chi

import (
	"time"

	domauction "github.com/kailas-cloud/quotapool/internal/domain/auction"
	statusuc "github.com/kailas-cloud/quotapool/internal/usecase/status"
)

// BatchRequest is the body of the multi-item endpoints.
type BatchRequest struct {
	Items      []string `json:"items"`
	Limit      *int     `json:"limit,omitempty"`
	Offset     *int     `json:"offset,omitempty"`
	Additional *bool    `json:"additional,omitempty"`
}

// SaleResponse is one history row.
type SaleResponse struct {
	ItemID    string    `json:"item_id"`
	Amount    int       `json:"amount"`
	Price     int64     `json:"price"`
	Time      time.Time `json:"time"`
	Quality   *int      `json:"quality,omitempty"`
	Potential *int      `json:"potential,omitempty"`
	Stats     *float64  `json:"stats,omitempty"`
}

// HistoryResponse is a list of history rows. Total is the server-side count
// for single pages and the number of returned rows otherwise.
type HistoryResponse struct {
	Total  int            `json:"total"`
	Prices []SaleResponse `json:"prices"`
}

// LotResponse is one active listing.
type LotResponse struct {
	ItemID       string    `json:"item_id"`
	Amount       int       `json:"amount"`
	StartPrice   int64     `json:"start_price"`
	CurrentPrice int64     `json:"current_price"`
	BuyoutPrice  int64     `json:"buyout_price"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	Quality      *int      `json:"quality,omitempty"`
	Potential    *int      `json:"potential,omitempty"`
	Stats        *float64  `json:"stats,omitempty"`
}

// LotsResponse is a list of active listings.
type LotsResponse struct {
	Total int           `json:"total"`
	Lots  []LotResponse `json:"lots"`
}

// ClanResponse describes a clan.
type ClanResponse struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Tag              string    `json:"tag"`
	Level            int       `json:"level"`
	LevelPoints      int       `json:"level_points"`
	RegistrationTime time.Time `json:"registration_time"`
	Alliance         string    `json:"alliance,omitempty"`
	Description      string    `json:"description,omitempty"`
	Leader           string    `json:"leader"`
	MemberCount      int       `json:"member_count"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// CredentialStatusResponse is the observable state of one credential.
type CredentialStatusResponse struct {
	ID        string     `json:"id"`
	Kind      string     `json:"kind"`
	Remaining int        `json:"remaining_weight"`
	MaxWeight int        `json:"max_weight"`
	ResetAt   time.Time  `json:"reset_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Exclusive bool       `json:"checked_out_exclusively"`
	UsedToday int64      `json:"used_today"`
}

// StatusResponse is the body of GET /v1/status.
type StatusResponse struct {
	Version             string                     `json:"version"`
	CredentialCount     int                        `json:"credential_count"`
	FreeCredentialCount int                        `json:"free_credential_count"`
	TotalFreeWeight     int                        `json:"total_free_weight"`
	RequestsQueued      int64                      `json:"requests_queued"`
	RequestsInFlight    int64                      `json:"requests_in_flight"`
	RequestsCompleted   int64                      `json:"requests_completed"`
	RequestsRetried     int64                      `json:"requests_retried"`
	BackpressureWaits   int64                      `json:"backpressure_waits"`
	Credentials         []CredentialStatusResponse `json:"credentials"`
}

func salesToResponse(total int, sales []domauction.Sale) HistoryResponse {
	out := HistoryResponse{Total: total, Prices: make([]SaleResponse, len(sales))}
	for i, s := range sales {
		out.Prices[i] = SaleResponse{
			ItemID:    s.ItemID,
			Amount:    s.Amount,
			Price:     s.Price,
			Time:      s.Time,
			Quality:   s.Quality,
			Potential: s.Potential,
			Stats:     s.Stats,
		}
	}
	return out
}

func lotsToResponse(total int, lots []domauction.Lot) LotsResponse {
	out := LotsResponse{Total: total, Lots: make([]LotResponse, len(lots))}
	for i, l := range lots {
		out.Lots[i] = LotResponse{
			ItemID:       l.ItemID,
			Amount:       l.Amount,
			StartPrice:   l.StartPrice,
			CurrentPrice: l.CurrentPrice,
			BuyoutPrice:  l.BuyoutPrice,
			StartTime:    l.StartTime,
			EndTime:      l.EndTime,
			Quality:      l.Quality,
			Potential:    l.Potential,
			Stats:        l.Stats,
		}
	}
	return out
}

func clanToResponse(c domauction.ClanInfo) ClanResponse {
	return ClanResponse{
		ID:               c.ID,
		Name:             c.Name,
		Tag:              c.Tag,
		Level:            c.Level,
		LevelPoints:      c.LevelPoints,
		RegistrationTime: c.RegistrationTime,
		Alliance:         c.Alliance,
		Description:      c.Description,
		Leader:           c.Leader,
		MemberCount:      c.MemberCount,
	}
}

func statusToResponse(version string, r statusuc.Report) StatusResponse {
	out := StatusResponse{
		Version:             version,
		CredentialCount:     r.CredentialCount,
		FreeCredentialCount: r.FreeCredentialCount,
		TotalFreeWeight:     r.TotalFreeWeight,
		RequestsQueued:      r.RequestsQueued,
		RequestsInFlight:    r.RequestsInFlight,
		RequestsCompleted:   r.RequestsCompleted,
		RequestsRetried:     r.RequestsRetried,
		BackpressureWaits:   r.BackpressureWaits,
		Credentials:         make([]CredentialStatusResponse, len(r.Credentials)),
	}
	for i, c := range r.Credentials {
		cs := CredentialStatusResponse{
			ID:        c.ID,
			Kind:      string(c.Kind),
			Remaining: c.Remaining,
			MaxWeight: c.MaxWeight,
			ResetAt:   c.ResetAt,
			Exclusive: c.Exclusive,
			UsedToday: c.UsedToday,
		}
		if !c.ExpiresAt.IsZero() {
			exp := c.ExpiresAt
			cs.ExpiresAt = &exp
		}
		out.Credentials[i] = cs
	}
	return out
}
