package secretstore_test

import (
	"fmt"

	"github.com/systmms/quickmanage/pkg/secretstore"
)

// ExampleParsePath shows how addresses split into their parts
func ExampleParsePath() {
	p := secretstore.ParsePath("local/web/example.com@private")

	fmt.Println("store:", p.Store)
	fmt.Println("secret:", p.Secret)
	fmt.Println("key:", p.Key)
	fmt.Println("complete:", p.Complete())

	storeOnly := secretstore.ParsePath("local")
	fmt.Println("store-only complete:", storeOnly.Complete())

	// Output:
	// store: local
	// secret: web/example.com
	// key: private
	// complete: true
	// store-only complete: false
}

// ExampleValidName demonstrates the secret name grammar
func ExampleValidName() {
	for _, name := range []string{"web/example.com", "-leading", "trailing/"} {
		fmt.Printf("%s: %v\n", name, secretstore.ValidName(name))
	}

	// Output:
	// web/example.com: true
	// -leading: false
	// trailing/: false
}

// ExampleFilter narrows a listing to one prefix
func ExampleFilter() {
	all := map[string]secretstore.Secret{
		"web/a": {Name: "web/a"},
		"web/b": {Name: "web/b"},
		"db/x":  {Name: "db/x"},
	}

	for _, name := range secretstore.SortedNames(secretstore.Filter(all, "web/")) {
		fmt.Println(name)
	}

	// Output:
	// web/a
	// web/b
}
