package database

import "go.mongodb.org/mongo-driver/mongo"

// Table is a document collection owned by one store.
type Table interface {
	GetTableName() string
	Collection() (*mongo.Collection, error)
}
