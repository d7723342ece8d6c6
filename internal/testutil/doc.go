// Package testutil provides testing utilities and fixtures for the authorization server:
// a controllable clock, a store seeded with the demo fixtures, and small assertion and
// HTTP request helpers.
package testutil
