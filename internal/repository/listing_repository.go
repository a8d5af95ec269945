// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"context"
	"fmt"

	"estate-smart-go/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ListingRepository 是房源数据源（爬虫写入的 listings/photos 表）。
type ListingRepository interface {
	FindAll(ctx context.Context) ([]model.Listing, error)
	FindByIDs(ctx context.Context, ids []int64) ([]model.Listing, error)
	Upsert(ctx context.Context, listings []model.Listing) error
	Count(ctx context.Context) (int64, error)
}

type listingRepository struct {
	db *gorm.DB
}

// NewListingRepository 创建一个新的 ListingRepository 实例。
func NewListingRepository(db *gorm.DB) ListingRepository {
	return &listingRepository{db: db}
}

func preloadPhotos(db *gorm.DB) *gorm.DB {
	return db.Order("photos.id ASC")
}

// FindAll 全量读取房源及其图片，按 id 升序。
func (r *listingRepository) FindAll(ctx context.Context) ([]model.Listing, error) {
	var listings []model.Listing
	err := r.db.WithContext(ctx).
		Preload("Photos", preloadPhotos).
		Order("listings.id ASC").
		Find(&listings).Error
	if err != nil {
		return nil, fmt.Errorf("failed to scan listings: %w", err)
	}
	return listings, nil
}

// FindByIDs 读取指定房源。
func (r *listingRepository) FindByIDs(ctx context.Context, ids []int64) ([]model.Listing, error) {
	var listings []model.Listing
	if len(ids) == 0 {
		return listings, nil
	}
	err := r.db.WithContext(ctx).
		Preload("Photos", preloadPhotos).
		Where("id IN ?", ids).
		Order("listings.id ASC").
		Find(&listings).Error
	return listings, err
}

// Upsert 按 id 整行替换房源，图片列表同样整体替换。
func (r *listingRepository) Upsert(ctx context.Context, listings []model.Listing) error {
	if len(listings) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ids := make([]int64, 0, len(listings))
		rows := make([]model.Listing, 0, len(listings))
		var photos []model.ListingPhoto
		for _, l := range listings {
			ids = append(ids, l.ID)
			for _, p := range l.Photos {
				photos = append(photos, model.ListingPhoto{ListingID: l.ID, PhotoURL: p.PhotoURL})
			}
			l.Photos = nil
			rows = append(rows, l)
		}

		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).CreateInBatches(rows, 100).Error; err != nil {
			return fmt.Errorf("failed to upsert listings: %w", err)
		}
		if err := tx.Where("listing_id IN ?", ids).Delete(&model.ListingPhoto{}).Error; err != nil {
			return fmt.Errorf("failed to clear photos: %w", err)
		}
		if len(photos) > 0 {
			if err := tx.CreateInBatches(photos, 100).Error; err != nil {
				return fmt.Errorf("failed to insert photos: %w", err)
			}
		}
		return nil
	})
}

func (r *listingRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.Listing{}).Count(&n).Error
	return n, err
}
