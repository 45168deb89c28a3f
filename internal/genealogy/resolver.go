// Package genealogy builds the two-level referral tree below an account.
package genealogy

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/referral-dashboard/internal/contract"
	"github.com/referral-dashboard/internal/logging"
	"github.com/referral-dashboard/internal/types"
)

// UserReader reads users(addr)
type UserReader interface {
	User(ctx context.Context, b *contract.Binding, addr common.Address) (*types.UserRecord, error)
}

// Resolver expands referral lists into a GenealogyNode tree
type Resolver struct {
	reader      UserReader
	concurrency int
}

// NewResolver creates a resolver issuing at most concurrency lookups per level
func NewResolver(reader UserReader, concurrency int) *Resolver {
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Resolver{reader: reader, concurrency: concurrency}
}

// Resolve returns the tree rooted at root, at most MaxGenealogyDepth deep.
// An unregistered root is an empty tree. Only a failed root read is an error;
// failed or unregistered referrals below it are dropped.
func (r *Resolver) Resolve(ctx context.Context, b *contract.Binding, root common.Address) (*types.GenealogyNode, error) {
	record, err := r.reader.User(ctx, b, root)
	if err != nil {
		return nil, err
	}

	node := &types.GenealogyNode{Address: root, Children: []*types.GenealogyNode{}}
	if !record.Exists {
		return node, nil
	}
	node.ID = record.ID
	node.Children = r.expand(ctx, b, record.DirectReferrals, 1)
	return node, nil
}

// expand resolves addrs as nodes at depth, recursing until MaxGenealogyDepth.
// Output order follows the on-chain referral order.
func (r *Resolver) expand(ctx context.Context, b *contract.Binding, addrs []common.Address, depth int) []*types.GenealogyNode {
	if len(addrs) == 0 || depth > types.MaxGenealogyDepth {
		return []*types.GenealogyNode{}
	}

	logger := logging.FromContext(ctx)
	slots := make([]*types.GenealogyNode, len(addrs))

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, addr := range addrs {
		g.Go(func() error {
			record, err := r.reader.User(ctx, b, addr)
			if err != nil {
				logger.WithError(err).WithFields(map[string]interface{}{
					"address": addr.Hex(),
					"depth":   depth,
				}).Warn("Dropping genealogy branch after failed lookup")
				return nil
			}
			if !record.Exists {
				return nil
			}

			node := &types.GenealogyNode{Address: addr, ID: record.ID, Children: []*types.GenealogyNode{}}
			if depth < types.MaxGenealogyDepth {
				node.Children = r.expand(ctx, b, record.DirectReferrals, depth+1)
			}
			slots[i] = node
			return nil
		})
	}
	_ = g.Wait()

	nodes := make([]*types.GenealogyNode, 0, len(slots))
	for _, node := range slots {
		if node != nil {
			nodes = append(nodes, node)
		}
	}
	return nodes
}
