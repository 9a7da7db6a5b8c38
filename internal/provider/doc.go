// Package provider binds validated search parameters to crawlers.
//
// A Provider is one configured repository (an entry of the providers
// configuration map). Search validates a parameter mapping against the
// common specs and the specs of the provider's kind and returns a Results
// handle over a fresh crawler. Kinds are looked up in a static registry.
package provider
