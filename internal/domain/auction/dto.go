package auction

import (
	"encoding/json"
	"fmt"
	"time"
)

// additionalDTO carries the optional per-item attributes.
type additionalDTO struct {
	Quality   *int     `json:"qlt"`
	Potential *int     `json:"ptn"`
	Stats     *float64 `json:"stats_random"`
}

type priceDTO struct {
	Amount     int            `json:"amount"`
	Price      int64          `json:"price"`
	Time       time.Time      `json:"time"`
	Additional *additionalDTO `json:"additional"`
}

type historyDTO struct {
	Total  int        `json:"total"`
	Prices []priceDTO `json:"prices"`
}

type lotDTO struct {
	ItemID       string         `json:"itemId"`
	Amount       int            `json:"amount"`
	StartPrice   int64          `json:"startPrice"`
	CurrentPrice int64          `json:"currentPrice"`
	BuyoutPrice  int64          `json:"buyoutPrice"`
	StartTime    time.Time      `json:"startTime"`
	EndTime      time.Time      `json:"endTime"`
	Additional   *additionalDTO `json:"additional"`
}

type lotsDTO struct {
	Total int      `json:"total"`
	Lots  []lotDTO `json:"lots"`
}

type clanDTO struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Tag              string    `json:"tag"`
	Level            int       `json:"level"`
	LevelPoints      int       `json:"levelPoints"`
	RegistrationTime time.Time `json:"registrationTime"`
	Alliance         string    `json:"alliance"`
	Description      string    `json:"description"`
	Leader           string    `json:"leader"`
	MemberCount      int       `json:"memberCount"`
}

// HistoryPage is one decoded page of price history.
type HistoryPage struct {
	Total int
	Sales []Sale
}

// LotsPage is one decoded page of active lots.
type LotsPage struct {
	Total int
	Lots  []Lot
}

// DecodeHistory parses a history response body. An empty body is an empty page.
func DecodeHistory(itemID string, body []byte) (HistoryPage, error) {
	if len(body) == 0 {
		return HistoryPage{}, nil
	}
	var dto historyDTO
	if err := json.Unmarshal(body, &dto); err != nil {
		return HistoryPage{}, fmt.Errorf("decode history: %w", err)
	}
	page := HistoryPage{Total: dto.Total, Sales: make([]Sale, 0, len(dto.Prices))}
	for _, p := range dto.Prices {
		s := Sale{ItemID: itemID, Amount: p.Amount, Price: p.Price, Time: p.Time}
		if p.Additional != nil {
			s.Quality = p.Additional.Quality
			s.Potential = p.Additional.Potential
			s.Stats = p.Additional.Stats
		}
		page.Sales = append(page.Sales, s)
	}
	return page, nil
}

// DecodeLots parses a lots response body. An empty body is an empty page.
func DecodeLots(itemID string, body []byte) (LotsPage, error) {
	if len(body) == 0 {
		return LotsPage{}, nil
	}
	var dto lotsDTO
	if err := json.Unmarshal(body, &dto); err != nil {
		return LotsPage{}, fmt.Errorf("decode lots: %w", err)
	}
	page := LotsPage{Total: dto.Total, Lots: make([]Lot, 0, len(dto.Lots))}
	for _, l := range dto.Lots {
		lot := Lot{
			ItemID:       l.ItemID,
			Amount:       l.Amount,
			StartPrice:   l.StartPrice,
			CurrentPrice: l.CurrentPrice,
			BuyoutPrice:  l.BuyoutPrice,
			StartTime:    l.StartTime,
			EndTime:      l.EndTime,
		}
		if lot.ItemID == "" {
			lot.ItemID = itemID
		}
		if l.Additional != nil {
			lot.Quality = l.Additional.Quality
			lot.Potential = l.Additional.Potential
			lot.Stats = l.Additional.Stats
		}
		page.Lots = append(page.Lots, lot)
	}
	return page, nil
}

// DecodeClan parses a clan info response body. ok is false for an empty body.
func DecodeClan(body []byte) (info ClanInfo, ok bool, err error) {
	if len(body) == 0 {
		return ClanInfo{}, false, nil
	}
	var dto clanDTO
	if err := json.Unmarshal(body, &dto); err != nil {
		return ClanInfo{}, false, fmt.Errorf("decode clan: %w", err)
	}
	return ClanInfo(dto), true, nil
}
