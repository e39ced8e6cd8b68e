// Package quotapool provides an embeddable client for the auction API that
// spreads requests over a pool of rate-limited credentials.
//
// Every credential has a weight budget per minute. The client keeps track of
// it from the x-ratelimit headers, parks batches when a credential runs dry
// and resumes them once the budget is back.
//
//	client, _ := quotapool.New(ctx,
//	    quotapool.WithEndpoints("https://eapi.stalcraft.net", "https://exbo.net"),
//	    quotapool.WithApplication(clientID, clientSecret),
//	)
//	defer client.Close()
//	go client.Run(ctx)
//
//	sales, total, _ := client.History(ctx, "ru", "y1q9", quotapool.Page{Limit: 100})
//	sales, _ := client.LongHistory(ctx, "ru", "y1q9", 1000, false)
//
// Usage can be persisted to Valkey or Redis with WithValkey or WithRedis.
package quotapool
