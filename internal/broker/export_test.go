package broker

// UniversalOptions exposes universalOptions to the external test package
var UniversalOptions = universalOptions
