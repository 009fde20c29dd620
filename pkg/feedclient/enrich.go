package feedclient

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/nao1215/fandomfeed/pkg/event"
	"github.com/nao1215/fandomfeed/pkg/httpclient"
)

// Directory はフィード表示に必要な名称を外部サービスから一括で引く。
type Directory interface {
	FandomNames(ctx context.Context, ids []int64) (map[int64]string, error)
	PostTitles(ctx context.Context, ids []int64) (map[int64]string, error)
	EventTitles(ctx context.Context, ids []int64) (map[int64]string, error)
}

// Details は1件の通知の表示用情報。
type Details struct {
	FandomName string
	Title      string
}

// Enricher はフィードに表示用の名称を付与する。
type Enricher struct {
	dir Directory
}

// NewEnricher は新しいEnricherを生成する。
func NewEnricher(dir Directory) *Enricher {
	return &Enricher{dir: dir}
}

// Enrich はファンダム・投稿・イベントのIDをそれぞれ重複なく集め、種類ごとに1回だけ並行に問い合わせて
// 通知IDごとの表示用情報を返す。いずれかの問い合わせが失敗した場合は全体を失敗とする。
func (e *Enricher) Enrich(ctx context.Context, entries []Entry) (map[int64]Details, error) {
	var fandomIDs, postIDs, eventIDs []int64
	for _, entry := range entries {
		fandomIDs = append(fandomIDs, entry.FandomID)
		switch entry.Type {
		case event.NotificationTypeContentPosted:
			postIDs = append(postIDs, entry.NotifierID)
		case event.NotificationTypeEventScheduled:
			eventIDs = append(eventIDs, entry.NotifierID)
		}
	}

	var fandoms, posts, events map[int64]string
	g, gctx := errgroup.WithContext(ctx)
	lookup := func(ids []int64, fetch func(context.Context, []int64) (map[int64]string, error), dst *map[int64]string) {
		ids = distinct(ids)
		if len(ids) == 0 {
			return
		}
		g.Go(func() error {
			m, err := fetch(gctx, ids)
			if err != nil {
				return err
			}
			*dst = m
			return nil
		})
	}
	lookup(fandomIDs, e.dir.FandomNames, &fandoms)
	lookup(postIDs, e.dir.PostTitles, &posts)
	lookup(eventIDs, e.dir.EventTitles, &events)
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("表示用情報の取得に失敗: %w", err)
	}

	details := make(map[int64]Details, len(entries))
	for _, entry := range entries {
		d := Details{FandomName: fandoms[entry.FandomID]}
		switch entry.Type {
		case event.NotificationTypeContentPosted:
			d.Title = posts[entry.NotifierID]
		case event.NotificationTypeEventScheduled:
			d.Title = events[entry.NotifierID]
		}
		details[entry.ID] = d
	}
	return details, nil
}

func distinct(ids []int64) []int64 {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}

// HTTPDirectory はコンテンツサービスのREST APIで名称を引くDirectory。
type HTTPDirectory struct {
	client *httpclient.Client
}

// NewHTTPDirectory は新しいHTTPDirectoryを生成する。
func NewHTTPDirectory(client *httpclient.Client) *HTTPDirectory {
	return &HTTPDirectory{client: client}
}

// namedItem はコンテンツサービスの一覧APIの1件。
type namedItem struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Title string `json:"title"`
}

// FandomNames は GET /api/v1/fandoms?ids=... でファンダム名を取得する。
func (d *HTTPDirectory) FandomNames(ctx context.Context, ids []int64) (map[int64]string, error) {
	return d.list(ctx, "/api/v1/fandoms", ids)
}

// PostTitles は GET /api/v1/posts?ids=... で投稿タイトルを取得する。
func (d *HTTPDirectory) PostTitles(ctx context.Context, ids []int64) (map[int64]string, error) {
	return d.list(ctx, "/api/v1/posts", ids)
}

// EventTitles は GET /api/v1/events?ids=... でイベントタイトルを取得する。
func (d *HTTPDirectory) EventTitles(ctx context.Context, ids []int64) (map[int64]string, error) {
	return d.list(ctx, "/api/v1/events", ids)
}

func (d *HTTPDirectory) list(ctx context.Context, path string, ids []int64) (map[int64]string, error) {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.FormatInt(id, 10))
	}
	var items []namedItem
	if err := d.client.GetJSON(ctx, path+"?ids="+strings.Join(parts, ","), &items); err != nil {
		return nil, fmt.Errorf("%s の取得に失敗: %w", path, err)
	}
	out := make(map[int64]string, len(items))
	for _, item := range items {
		if item.Name != "" {
			out[item.ID] = item.Name
		} else {
			out[item.ID] = item.Title
		}
	}
	return out, nil
}
