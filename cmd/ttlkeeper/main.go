// ttlkeeper - EC2 instance lifecycle by TTL tags
// Tag. Expire. Reap.
package main

func main() {
	Execute()
}
