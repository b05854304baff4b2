// Package resolve clusters normalized records that denote the same
// real-world parcel and merges each cluster into a canonical record.
package resolve

import (
	"context"
	"fmt"
	"sort"

	"github.com/adrg/strutil"
	strmetrics "github.com/adrg/strutil/metrics"
	"go.uber.org/zap"

	"github.com/TheClitCommander/Bay-Area-Leads/internal/metrics"
	"github.com/TheClitCommander/Bay-Area-Leads/internal/records"
)

// Default similarity thresholds. Addresses tolerate less drift than owner
// names because street lines are already canonicalized upstream.
const (
	DefaultAddressThreshold = 0.85
	DefaultNameThreshold    = 0.80
)

// Resolver clusters records by parcel identity first and fuzzy
// owner/address similarity second.
type Resolver struct {
	addrThreshold float64
	nameThreshold float64
	idgen         records.IDGenerator
	logger        *zap.Logger
	similarity    *strmetrics.JaroWinkler
}

// New builds a Resolver. A zero threshold selects the matching default.
func New(addressThreshold, nameThreshold float64, idgen records.IDGenerator, logger *zap.Logger) *Resolver {
	if addressThreshold <= 0 {
		addressThreshold = DefaultAddressThreshold
	}
	if nameThreshold <= 0 {
		nameThreshold = DefaultNameThreshold
	}
	return &Resolver{
		addrThreshold: addressThreshold,
		nameThreshold: nameThreshold,
		idgen:         idgen,
		logger:        logger,
		similarity:    strmetrics.NewJaroWinkler(),
	}
}

// Resolve groups the records into entity clusters. The grouping is
// order-independent: inputs are sorted on a stable key before the greedy
// pass, so permutations of the same records yield the same clusters.
func (r *Resolver) Resolve(ctx context.Context, recs []records.NormalizedRecord) ([]records.EntityCluster, error) {
	sorted := make([]records.NormalizedRecord, len(recs))
	copy(sorted, recs)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.ParcelID != b.ParcelID {
			return a.ParcelID < b.ParcelID
		}
		if al, bl := a.Address.Line(), b.Address.Line(); al != bl {
			return al < bl
		}
		if a.SourceID != b.SourceID {
			return a.SourceID < b.SourceID
		}
		return a.ID < b.ID
	})

	var groups [][]records.NormalizedRecord
	for _, rec := range sorted {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		placed := false
		for i, group := range groups {
			if r.belongs(rec, group) {
				groups[i] = append(group, rec)
				placed = true
				break
			}
		}
		if !placed {
			groups = append(groups, []records.NormalizedRecord{rec})
		}
	}

	clusters := make([]records.EntityCluster, 0, len(groups))
	for _, group := range groups {
		id, err := r.idgen.NewID()
		if err != nil {
			return nil, fmt.Errorf("generate cluster id: %w", err)
		}
		cluster := mergeCluster(id, group)
		if len(cluster.Conflicts) > 0 {
			r.logger.Warn("cluster carries field conflicts",
				zap.String("cluster", cluster.ID),
				zap.Int("conflicts", len(cluster.Conflicts)),
			)
		}
		clusters = append(clusters, cluster)
	}

	metrics.SetClusterCount(len(clusters))
	return clusters, nil
}

// belongs reports whether rec denotes the same parcel as the group.
// Matching is single-linkage: agreement with any member suffices.
func (r *Resolver) belongs(rec records.NormalizedRecord, group []records.NormalizedRecord) bool {
	for _, member := range group {
		if r.sameEntity(rec, member) {
			return true
		}
	}
	return false
}

// sameEntity decides whether two records denote one parcel. An exact
// parcel-id match settles it either way; otherwise the decision falls to
// fuzzy address plus owner similarity. Clearly different owners never
// merge no matter how close the addresses sit.
func (r *Resolver) sameEntity(a, b records.NormalizedRecord) bool {
	if a.ParcelID != "" && b.ParcelID != "" {
		return a.ParcelID == b.ParcelID
	}

	addrA, addrB := a.Address.Line(), b.Address.Line()
	if addrA == "" || addrB == "" {
		return false
	}
	if strutil.Similarity(addrA, addrB, r.similarity) < r.addrThreshold {
		return false
	}
	if a.Owner == "" || b.Owner == "" {
		// Without an owner on one side the street line must agree exactly.
		return addrA == addrB
	}
	return strutil.Similarity(a.Owner, b.Owner, r.similarity) >= r.nameThreshold
}
