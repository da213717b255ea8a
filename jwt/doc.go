// Package jwt issues and verifies the signed session tokens that carry a
// session's tenant and completed-factors claims across process boundaries.
package jwt
