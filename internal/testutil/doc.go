// Package testutil contains helper builders and utilities used across tests
// to reduce boilerplate when constructing threads and consuming event
// streams. They are not intended for production usage.
package testutil
