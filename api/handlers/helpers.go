package handlers

import (
	"go.mongodb.org/mongo-driver/mongo/options"
)

// mongoReturnAfter makes FindOneAndUpdate hand back the post-update
// document so responses reflect what was actually stored.
func mongoReturnAfter() *options.FindOneAndUpdateOptions {
	return options.FindOneAndUpdate().SetReturnDocument(options.After)
}
