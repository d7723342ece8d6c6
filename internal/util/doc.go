// Package util provides common utility functions used across the authorization server.
//
// Key utilities:
//   - SafeTruncate: Safely truncates strings for logging sensitive data
//   - SplitScopes / JoinScopes: Convert between the space-delimited wire form of a
//     scope parameter and an ordered scope list
package util
