// Package entity4go provides a client-side entity manager for Breeze-style data
// services, together with a GORM-backed Northwind service to run it against.
package entity4go

import (
	"github.com/ammar0144/entity4go/pkg/dataservice"
	"github.com/ammar0144/entity4go/pkg/entity"
	"github.com/ammar0144/entity4go/pkg/metadata"
)

// EntityManager tracks entities, their states and relationships
type EntityManager = entity.EntityManager

// Entity is a tracked instance of a metadata entity type
type Entity = entity.Entity

// EntityQuery builds a query for a resource
type EntityQuery = entity.EntityQuery

// DataService is what an EntityManager talks to
type DataService = entity.DataService

// MetadataStore describes the entity types of a service
type MetadataStore = metadata.Store

// Client is the HTTP DataService
type Client = dataservice.Client

// NewClient creates an HTTP client for the named service at baseURL
func NewClient(baseURL, serviceName string, opts ...dataservice.ClientOption) *Client {
	return dataservice.NewClient(baseURL, serviceName, opts...)
}

// NewEntityManager creates a manager over ds.
// Pass entity.WithMetadataStore to share metadata between managers.
func NewEntityManager(ds DataService, opts ...entity.Option) *EntityManager {
	return entity.NewEntityManager(ds, opts...)
}

// From starts a query against resource, e.g. From("Orders").Expand("OrderDetails")
func From(resource string) *EntityQuery {
	return entity.From(resource)
}
