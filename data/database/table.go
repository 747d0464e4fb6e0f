package database

import "go.mongodb.org/mongo-driver/mongo"

// Table is a mongo backed store bound to one collection.
type Table interface {
	GetTableName() string
	Collection() *mongo.Collection
}
