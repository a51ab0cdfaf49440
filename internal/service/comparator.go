package service

import (
	"encoding/json"

	"github.com/google/go-cmp/cmp"

	"nosto_indexer_v1_202609/pkg/nosto"
)

// RepresentationsEqual 快照结构化相等比较
// 先经 JSON 归一化再逐字段比较值，不依赖构建时的内部顺序或零值表示差异。
// schema 版本不参与比较：新构建的快照尚未序列化，版本号在落库时才写入
func RepresentationsEqual(a, b *nosto.Product) bool {
	if a == nil || b == nil {
		return a == b
	}

	na, err := normalize(a)
	if err != nil {
		return false
	}
	nb, err := normalize(b)
	if err != nil {
		return false
	}
	return cmp.Equal(na, nb)
}

func normalize(p *nosto.Product) (interface{}, error) {
	stripped := *p
	stripped.Schema = ""

	data, err := json.Marshal(&stripped)
	if err != nil {
		return nil, err
	}
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
