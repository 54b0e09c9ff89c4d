package query

import (
	"fmt"
	"streamhub/models"

	"github.com/huandu/go-sqlbuilder"
	"github.com/lib/pq"
	"github.com/samber/lo"
)

// TopicFilter narrows items to a set of topics
type TopicFilter struct {
	Topics []models.Topic
}

func (f *TopicFilter) ApplyFilter(sb *sqlbuilder.SelectBuilder) {
	if len(f.Topics) == 0 {
		return
	}
	topics := lo.Map(f.Topics, func(t models.Topic, _ int) string { return string(t) })
	sb.Where(fmt.Sprintf("topic = ANY(%s)", sb.Args.Add(pq.Array(topics))))
}

var _ FilterStrategy = (*TopicFilter)(nil)
