// Command scriptgate serves and runs scripts through an embedded engine.
package main

func main() {
	Execute()
}
