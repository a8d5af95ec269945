// Package pipeline 定义了房源同步的核心流程：读取快照、入库、向量化、写入索引。
package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"estate-smart-go/internal/model"
	"estate-smart-go/internal/repository"
	"estate-smart-go/internal/service"
	"estate-smart-go/pkg/embedding"
	"estate-smart-go/pkg/log"
	"estate-smart-go/pkg/storage"
	"estate-smart-go/pkg/tasks"
)

// maxLineSize 单行快照记录的上限，描述字段可能很长。
const maxLineSize = 4 << 20

// dropTimeout 删除未完成集合时的超时。
const dropTimeout = 30 * time.Second

// Processor 封装了房源同步的所有依赖和逻辑。
type Processor struct {
	source   storage.ObjectSource
	listings repository.ListingRepository
	index    repository.ListingIndex
	embedder embedding.Client
	opts     service.BootstrapOptions
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(
	source storage.ObjectSource,
	listings repository.ListingRepository,
	index repository.ListingIndex,
	embedder embedding.Client,
	opts service.BootstrapOptions,
) *Processor {
	return &Processor{
		source:   source,
		listings: listings,
		index:    index,
		embedder: embedder,
		opts:     opts,
	}
}

// Process 是房源同步的主函数。同一快照重复处理结果不变。
func (p *Processor) Process(ctx context.Context, task tasks.ListingSyncTask) error {
	log.Infof("[Processor] 开始处理快照, TaskID: %s, Object: %s, Source: %s", task.TaskID, task.ObjectName, task.Source)

	// 1. 从对象存储读取快照
	log.Infof("[Processor] 步骤1: 读取快照 %s", task.ObjectName)
	rc, err := p.source.Open(ctx, task.ObjectName)
	if err != nil {
		return err
	}
	defer rc.Close()

	listings, err := ParseSnapshot(rc)
	if err != nil {
		log.Errorf("[Processor] 解析快照失败, Object: %s, Error: %v", task.ObjectName, err)
		return err
	}
	if len(listings) == 0 {
		log.Warnf("[Processor] 快照 '%s' 没有记录, 处理中止", task.ObjectName)
		return nil
	}
	log.Infof("[Processor] 步骤1: 解析到 %d 条房源", len(listings))

	// 2. 写入房源库
	if err := p.listings.Upsert(ctx, listings); err != nil {
		return fmt.Errorf("failed to upsert listings: %w", err)
	}
	log.Infof("[Processor] 步骤2: 房源已写入数据库")

	// 3. 先向量化，再确保集合存在并写入索引
	points, err := service.EmbedListings(ctx, p.embedder, listings, p.opts)
	if err != nil {
		return err
	}
	exists, err := p.index.CollectionExists(ctx, p.opts.Collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if !exists {
		if err := p.index.CreateCollection(ctx, p.opts.Collection, p.embedder.Dimensions()); err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}
	}
	upserts, err := service.UpsertPoints(ctx, p.index, points, p.opts)
	if err != nil {
		if !exists {
			// 本次新建的集合只写了一部分，删掉以免启动建索引被跳过
			dropCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dropTimeout)
			defer cancel()
			if dropErr := p.index.DeleteCollection(dropCtx, p.opts.Collection); dropErr != nil {
				log.Errorf("[Processor] 删除未完成的集合 %s 失败: %v", p.opts.Collection, dropErr)
			}
		}
		return err
	}
	log.Infof("[Processor] 步骤3: 索引已更新, 房源: %d, 写入批次: %d", len(listings), upserts)
	return nil
}

// ParseSnapshot 读取 JSON Lines 快照。空行跳过，photos 可以是数组或逗号拼接的字符串。
// 同一 id 出现多次时以最后一次为准。
func ParseSnapshot(r io.Reader) ([]model.Listing, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var listings []model.Listing
	seen := make(map[int64]int)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var rec model.ListingSnapshotRecord
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return nil, fmt.Errorf("snapshot line %d: %w", line, err)
		}
		if rec.ID <= 0 {
			return nil, fmt.Errorf("snapshot line %d: %w", line, errors.New("missing listing id"))
		}
		l := rec.ToListing()
		if i, ok := seen[l.ID]; ok {
			listings[i] = l
			continue
		}
		seen[l.ID] = len(listings)
		listings = append(listings, l)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return listings, nil
}
