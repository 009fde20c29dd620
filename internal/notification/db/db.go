// Package db は通知サービスのSQLiteクエリを提供する。
// sqlcの生成コードと同じ形（Queries + Params構造体）で記述している。
package db

import (
	"context"
	"database/sql"
	"strings"
)

// DBTX は*sql.DBと*sql.Txの共通インターフェース。
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	PrepareContext(context.Context, string) (*sql.Stmt, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

// New はクエリ実行オブジェクトを生成する。
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// Queries はSQLクエリの実行を担う。
type Queries struct {
	db DBTX
}

// WithTx はトランザクション上でクエリを実行するQueriesを返す。
func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

// expandSlice はクエリ中の /*SLICE:name*/? を要素数分のプレースホルダに展開する。
// 空スライスの場合はNULLに置き換え、どの行にも一致しないようにする。
func expandSlice(query, name string, ids []int64, args []interface{}) (string, []interface{}) {
	marker := "/*SLICE:" + name + "*/?"
	if len(ids) == 0 {
		return strings.Replace(query, marker, "NULL", 1), args
	}
	for _, id := range ids {
		args = append(args, id)
	}
	return strings.Replace(query, marker, strings.Repeat(",?", len(ids))[1:], 1), args
}

// scanIDs は単一のINTEGER列を持つ結果セットを読み取る。
func scanIDs(rows *sql.Rows) ([]int64, error) {
	defer rows.Close()
	var items []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		items = append(items, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
