package types

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func buildTree(fanout, grandchildren int) *GenealogyNode {
	root := &GenealogyNode{ID: 1}
	for i := 0; i < fanout; i++ {
		child := &GenealogyNode{ID: uint64(i + 2)}
		for j := 0; j < grandchildren; j++ {
			child.Children = append(child.Children, &GenealogyNode{})
		}
		root.Children = append(root.Children, child)
	}
	return root
}

func TestGenealogyTreeShapeProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("size counts every node", prop.ForAll(
		func(fanout, grandchildren int) bool {
			return buildTree(fanout, grandchildren).Size() == 1+fanout+fanout*grandchildren
		},
		gen.IntRange(0, 20),
		gen.IntRange(0, 20),
	))

	properties.Property("two-level trees never exceed depth two", prop.ForAll(
		func(fanout, grandchildren int) bool {
			depth := buildTree(fanout, grandchildren).Depth()
			switch {
			case fanout == 0:
				return depth == 0
			case grandchildren == 0:
				return depth == 1
			default:
				return depth == MaxGenealogyDepth
			}
		},
		gen.IntRange(0, 20),
		gen.IntRange(0, 20),
	))

	properties.TestingRun(t)
}
