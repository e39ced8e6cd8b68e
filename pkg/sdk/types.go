package quotapool

import (
	"time"

	domauction "github.com/kailas-cloud/quotapool/internal/domain/auction"
	"github.com/kailas-cloud/quotapool/internal/domain/credential"
	statusuc "github.com/kailas-cloud/quotapool/internal/usecase/status"
)

// CredentialKind distinguishes application and user credentials.
type CredentialKind string

// Credential kinds.
const (
	KindApplication CredentialKind = CredentialKind(credential.KindApplication)
	KindUser        CredentialKind = CredentialKind(credential.KindUser)
)

// Page selects a slice of a listing.
type Page struct {
	Limit      int
	Offset     int
	Additional bool
}

// Sale is one completed trade.
type Sale struct {
	ItemID    string
	Amount    int
	Price     int64
	Time      time.Time
	Quality   *int
	Potential *int
	Stats     *float64
}

// Lot is one active listing.
type Lot struct {
	ItemID       string
	Amount       int
	StartPrice   int64
	CurrentPrice int64
	BuyoutPrice  int64
	StartTime    time.Time
	EndTime      time.Time
	Quality      *int
	Potential    *int
	Stats        *float64
}

// Clan describes a clan.
type Clan struct {
	ID               string
	Name             string
	Tag              string
	Level            int
	LevelPoints      int
	RegistrationTime time.Time
	Alliance         string
	Description      string
	Leader           string
	MemberCount      int
}

// CredentialInfo is the observable state of one pooled credential.
type CredentialInfo struct {
	ID        string
	Kind      CredentialKind
	Remaining int
	MaxWeight int
	ResetAt   time.Time
	ExpiresAt time.Time
	Exclusive bool
	UsedToday int64
}

// Status is a snapshot of the pool and the request counters.
type Status struct {
	Credentials       []CredentialInfo
	FreeCredentials   int
	FreeWeight        int
	RequestsQueued    int64
	RequestsInFlight  int64
	RequestsCompleted int64
	RequestsRetried   int64
	BackpressureWaits int64
}

// HealthStatus represents the aggregated client health.
type HealthStatus struct {
	Status string            // "ok", "degraded", "error"
	Checks map[string]string // component → "ok"/"error"
}

func salesFromDomain(in []domauction.Sale) []Sale {
	out := make([]Sale, len(in))
	for i, s := range in {
		out[i] = Sale{
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

func lotsFromDomain(in []domauction.Lot) []Lot {
	out := make([]Lot, len(in))
	for i, l := range in {
		out[i] = Lot{
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

func clanFromDomain(c domauction.ClanInfo) Clan {
	return Clan{
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

func statusFromReport(r statusuc.Report) Status {
	out := Status{
		Credentials:       make([]CredentialInfo, len(r.Credentials)),
		FreeCredentials:   r.FreeCredentialCount,
		FreeWeight:        r.TotalFreeWeight,
		RequestsQueued:    r.RequestsQueued,
		RequestsInFlight:  r.RequestsInFlight,
		RequestsCompleted: r.RequestsCompleted,
		RequestsRetried:   r.RequestsRetried,
		BackpressureWaits: r.BackpressureWaits,
	}
	for i, c := range r.Credentials {
		out.Credentials[i] = CredentialInfo{
			ID:        c.ID,
			Kind:      CredentialKind(c.Kind),
			Remaining: c.Remaining,
			MaxWeight: c.MaxWeight,
			ResetAt:   c.ResetAt,
			ExpiresAt: c.ExpiresAt,
			Exclusive: c.Exclusive,
			UsedToday: c.UsedToday,
		}
	}
	return out
}
