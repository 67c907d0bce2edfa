// Package auth mints and verifies the optional capability token an
// rnode.Client presents on connect (spec §4.1 Open Question 1: tags are
// correlation only, never authentication — this is the actual auth layer,
// riding separately in Envelope.Opaque).
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/ovs-cluster/voldriver-router/cluster"
	"github.com/ovs-cluster/voldriver-router/cmn"
)

const claimNodeID = "node_id"

// Mint produces an HS256 JWT asserting nodeID, valid for ttl, signed with
// secret (the shared cluster secret from cmn.Config.AuthSecret).
func Mint(nodeID cluster.NodeId, secret string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		claimNodeID: string(nodeID),
		"exp":       time.Now().Add(ttl).Unix(),
		"iat":       time.Now().Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString([]byte(secret))
	if err != nil {
		return "", cmn.Wrap(err, "mint capability token")
	}
	return s, nil
}

// Verify checks signature and expiry and returns the asserted NodeId.
func Verify(token, secret string) (cluster.NodeId, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, cmn.ErrProtocol
		}
		return []byte(secret), nil
	})
	if err != nil {
		return "", cmn.Wrap(err, "verify capability token")
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return "", cmn.Wrap(cmn.ErrProtocol, "capability token invalid")
	}
	id, _ := claims[claimNodeID].(string)
	if id == "" {
		return "", cmn.Wrap(cmn.ErrProtocol, "capability token missing node_id")
	}
	return cluster.NodeId(id), nil
}
