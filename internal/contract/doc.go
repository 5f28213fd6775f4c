// Package contract checks the checkout HTTP routes against their JSON shapes,
// either in process or against a live server named by CHECKOUT_BASE_URL.
package contract
