// Package model 定义了与数据库表对应的 Go 结构体。
package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Listing 对应爬虫写入的 listings 表，id 为来源站点的主键。
type Listing struct {
	ID            int64          `gorm:"primaryKey;autoIncrement:false" json:"id"`
	UserID        int64          `json:"user_id"`
	OperationType string         `gorm:"type:varchar(32)" json:"operation_type"`
	CategoryID    int64          `json:"category_id"`
	SubCategoryID int64          `json:"sub_category_id"`
	Description   string         `gorm:"type:text" json:"description"`
	Price         float64        `json:"price"`
	PriceCurrency string         `gorm:"type:varchar(16)" json:"price_currency"`
	Address       string         `gorm:"type:varchar(512)" json:"address"`
	RegionID      int64          `json:"region_id"`
	DistrictID    int64          `json:"district_id"`
	StreetID      int64          `json:"street_id"`
	ZoneID        int64          `json:"zone_id"`
	Room          string         `gorm:"type:varchar(16)" json:"room"`
	Lat           float64        `json:"lat"`
	Lng           float64        `json:"lng"`
	Square        float64        `json:"square"`
	Floor         int            `json:"floor"`
	FloorTotal    int            `json:"floor_total"`
	IsNewBuilding bool           `json:"is_new_building"`
	Repair        string         `gorm:"type:varchar(64)" json:"repair"`
	Foundation    string         `gorm:"type:varchar(64)" json:"foundation"`
	CreatedAt     string         `gorm:"type:varchar(64);autoCreateTime:false" json:"created_at"`
	UpdatedAt     string         `gorm:"type:varchar(64);autoUpdateTime:false" json:"updated_at"`
	MediaCount    int            `json:"media_count"`
	Views         int            `json:"views"`
	Clicks        int            `json:"clicks"`
	Favorites     int            `json:"favorites"`
	Photos        []ListingPhoto `gorm:"foreignKey:ListingID;constraint:OnDelete:CASCADE" json:"photos,omitempty"`
}

func (Listing) TableName() string {
	return "listings"
}

// ListingPhoto 对应 photos 表，一条房源对应多张图片，按 id 保序。
type ListingPhoto struct {
	ID        uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	ListingID int64  `gorm:"index;not null" json:"listing_id"`
	PhotoURL  string `gorm:"type:varchar(1024);not null" json:"photo_url"`
}

func (ListingPhoto) TableName() string {
	return "photos"
}

// PhotoURLs 返回有序的图片地址。
func (l *Listing) PhotoURLs() []string {
	urls := make([]string, 0, len(l.Photos))
	for _, p := range l.Photos {
		if p.PhotoURL != "" {
			urls = append(urls, p.PhotoURL)
		}
	}
	return urls
}

// ListingPayload 是写入向量索引的载荷，也是检索结果返回给上层的结构。
type ListingPayload struct {
	ID            int64    `json:"id"`
	OperationType string   `json:"operation_type,omitempty"`
	Description   string   `json:"description"`
	Price         float64  `json:"price"`
	PriceCurrency string   `json:"price_currency,omitempty"`
	Address       string   `json:"address"`
	RegionID      int64    `json:"region_id,omitempty"`
	DistrictID    int64    `json:"district_id,omitempty"`
	Room          string   `json:"room,omitempty"`
	Lat           float64  `json:"lat,omitempty"`
	Lng           float64  `json:"lng,omitempty"`
	Square        float64  `json:"square,omitempty"`
	Floor         int      `json:"floor,omitempty"`
	FloorTotal    int      `json:"floor_total,omitempty"`
	IsNewBuilding bool     `json:"is_new_building"`
	Repair        string   `json:"repair,omitempty"`
	Foundation    string   `json:"foundation,omitempty"`
	Photos        []string `json:"photos,omitempty"`
}

// Payload 把数据库行投影为索引载荷。
func (l *Listing) Payload() ListingPayload {
	return ListingPayload{
		ID:            l.ID,
		OperationType: l.OperationType,
		Description:   l.Description,
		Price:         l.Price,
		PriceCurrency: l.PriceCurrency,
		Address:       l.Address,
		RegionID:      l.RegionID,
		DistrictID:    l.DistrictID,
		Room:          l.Room,
		Lat:           l.Lat,
		Lng:           l.Lng,
		Square:        l.Square,
		Floor:         l.Floor,
		FloorTotal:    l.FloorTotal,
		IsNewBuilding: l.IsNewBuilding,
		Repair:        l.Repair,
		Foundation:    l.Foundation,
		Photos:        l.PhotoURLs(),
	}
}

// Canonical 生成确定性的整行序列化文本，作为入库时的向量化输入。
// 结构化字段全部参与，图片地址不参与。
func (p ListingPayload) Canonical() string {
	fields := []struct{ k, v string }{
		{"id", strconv.FormatInt(p.ID, 10)},
		{"operation_type", p.OperationType},
		{"price", strconv.FormatFloat(p.Price, 'f', -1, 64)},
		{"price_currency", p.PriceCurrency},
		{"address", p.Address},
		{"region_id", strconv.FormatInt(p.RegionID, 10)},
		{"district_id", strconv.FormatInt(p.DistrictID, 10)},
		{"room", p.Room},
		{"square", strconv.FormatFloat(p.Square, 'f', -1, 64)},
		{"floor", strconv.Itoa(p.Floor)},
		{"floor_total", strconv.Itoa(p.FloorTotal)},
		{"is_new_building", strconv.FormatBool(p.IsNewBuilding)},
		{"repair", p.Repair},
		{"foundation", p.Foundation},
		{"lat", strconv.FormatFloat(p.Lat, 'f', -1, 64)},
		{"lng", strconv.FormatFloat(p.Lng, 'f', -1, 64)},
		{"description", strings.Join(strings.Fields(p.Description), " ")},
	}
	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(f.k)
		b.WriteString(": ")
		b.WriteString(f.v)
	}
	return b.String()
}

// IndexedPoint 是向量索引中的一条记录，ID 与房源 ID 一致，保证重复写入幂等。
type IndexedPoint struct {
	ID      int64
	Vector  []float32
	Payload ListingPayload
}

// ScoredListing 是一条检索结果。
type ScoredListing struct {
	Listing ListingPayload `json:"listing"`
	Score   float64        `json:"score"`
}

// SplitPhotoURLs 把 GROUP_CONCAT 得到的逗号拼接字符串还原为有序列表。
func SplitPhotoURLs(joined string) []string {
	if strings.TrimSpace(joined) == "" {
		return nil
	}
	parts := strings.Split(joined, ",")
	urls := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			urls = append(urls, p)
		}
	}
	return urls
}

// PhotoList 兼容两种快照格式：JSON 数组或逗号拼接的字符串。
type PhotoList []string

func (p *PhotoList) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*p = nil
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var joined string
		if err := json.Unmarshal(data, &joined); err != nil {
			return err
		}
		*p = SplitPhotoURLs(joined)
		return nil
	}
	var urls []string
	if err := json.Unmarshal(data, &urls); err != nil {
		return fmt.Errorf("photos must be an array or a comma-joined string: %w", err)
	}
	*p = urls
	return nil
}

// ListingSnapshotRecord 是快照文件中的一行（JSON Lines）。
type ListingSnapshotRecord struct {
	Listing
	Photos PhotoList `json:"photos"`
}

// ToListing 组装出可直接 upsert 的 Listing。
func (r ListingSnapshotRecord) ToListing() Listing {
	l := r.Listing
	l.Photos = make([]ListingPhoto, 0, len(r.Photos))
	for _, u := range r.Photos {
		l.Photos = append(l.Photos, ListingPhoto{ListingID: l.ID, PhotoURL: u})
	}
	return l
}
