package notification

import (
	"errors"
	"fmt"
)

// ErrNotFound はユーザー・ファンダム・通知のいずれかが存在しない場合のエラー。
var ErrNotFound = errors.New("リソースが見つかりません")

// リソース種別。
const (
	ResourceUser         = "user"
	ResourceFandom       = "fandom"
	ResourceNotification = "notification"
)

// NotFoundError は見つからなかったリソースとそのIDを保持する。
// errors.Is(err, ErrNotFound) で判定できる。
type NotFoundError struct {
	Resource string
	IDs      []int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%sが見つかりません: %v", e.Resource, e.IDs)
}

// Is はErrNotFoundとの比較を可能にする。
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

func notFound(resource string, ids ...int64) error {
	return &NotFoundError{Resource: resource, IDs: ids}
}
