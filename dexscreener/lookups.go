package dexscreener

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
)

const orderLookupWorkers = 4

type orderLookup struct {
	token  Token
	orders []Order
	err    error
}

// lookupOrders runs the per token order requests on a small worker pool.
// Results are returned in the order of tokens.
func (f *Fetcher) lookupOrders(ctx context.Context, tokens []Token) []orderLookup {
	results := make([]orderLookup, len(tokens))
	queue := make(chan int, len(tokens))
	for i := range tokens {
		queue <- i
	}
	close(queue)

	workers := min(orderLookupWorkers, len(tokens))
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(id int) {
			defer wg.Done()
			for i := range queue {
				token := tokens[i]
				results[i].token = token
				if err := ctx.Err(); err != nil {
					results[i].err = err
					continue
				}
				results[i].orders, results[i].err = f.client.Orders(ctx, token.ChainID, token.Address)
				log.WithFields(log.Fields{
					"worker": id,
					"chain":  token.ChainID,
					"token":  token.Address,
					"orders": len(results[i].orders),
				}).Trace("Order lookup done")
			}
		}(w)
	}
	wg.Wait()

	return results
}
