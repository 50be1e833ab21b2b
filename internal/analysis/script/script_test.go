package script

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInspect(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		violation bool
		reason    string
	}{
		{name: "pure chinese", text: "谢谢！姐姐教你。", reason: "ok"},
		{name: "chinese with tilde", text: "师兄~！人家等你好久了！", reason: "ok"},
		{name: "pinyin in parentheses", text: "谢谢 (xièxiè)", violation: true, reason: "latin,vietnamese"},
		{name: "vietnamese mixed", text: "师兄 mua một cái đi!", violation: true, reason: "latin,vietnamese"},
		{name: "only vietnamese marks", text: "đ ơ ư", violation: true, reason: "no_han,vietnamese"},
		{name: "uppercase vietnamese", text: "好Đ", violation: true, reason: "vietnamese"},
		{name: "empty", text: "", violation: true, reason: "no_han"},
		{name: "english", text: "Hello", violation: true, reason: "no_han,latin"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep := Inspect(tt.text)
			assert.Equal(t, tt.violation, rep.Violation())
			assert.Equal(t, tt.reason, rep.Reason())
		})
	}
}

func TestInspectCountsRunes(t *testing.T) {
	rep := Inspect("好的!")
	assert.Equal(t, 2, rep.HanRunes)
	assert.Equal(t, 3, rep.TotalRunes)
}

func TestMonitorCountsConcurrently(t *testing.T) {
	var m Monitor
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%5 == 0 {
				m.Observe("bad text")
				return
			}
			m.Observe("好")
		}(i)
	}
	wg.Wait()

	assert.Equal(t, Stats{Checked: 50, Violations: 10}, m.Stats())
}
