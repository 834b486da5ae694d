package checkout

// Notifier shows a blocking message to the user.
type Notifier interface {
	Notify(message string)
}

// Navigator moves the user to another page.
type Navigator interface {
	Navigate(url string)
}

type NotifierFunc func(message string)

func (f NotifierFunc) Notify(message string) { f(message) }

type NavigatorFunc func(url string)

func (f NavigatorFunc) Navigate(url string) { f(url) }
