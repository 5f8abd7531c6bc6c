package databases

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type mongoPaginate struct {
	limit int64
	page  int64
}

func newMongoPaginate(limit, page int) *mongoPaginate {
	return &mongoPaginate{
		limit: int64(limit),
		page:  int64(page),
	}
}

func (mp *mongoPaginate) getPaginatedOpts() *options.FindOptions {
	l := mp.limit
	skip := mp.page*mp.limit - mp.limit
	fOpt := options.FindOptions{Limit: &l, Skip: &skip}

	return &fOpt
}

// PaginatedOpts builds find options for a limit/page pair, most recently
// active first. Page is 1-based; limit <= 0 disables pagination.
func PaginatedOpts(limit, page int, sortField string) *options.FindOptions {
	var fOpt *options.FindOptions
	if limit > 0 {
		if page < 1 {
			page = 1
		}
		fOpt = newMongoPaginate(limit, page).getPaginatedOpts()
	} else {
		fOpt = &options.FindOptions{}
	}
	if sortField != "" {
		fOpt.SetSort(bson.D{{Key: sortField, Value: -1}})
	}
	return fOpt
}
