// Command warden runs WebAssembly plugins inside a capability sandbox.
package main

func main() {
	Execute()
}
